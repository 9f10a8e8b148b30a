package main

import "github.com/deploymenttheory/go-e2fsck/cmd"

func main() {
	cmd.Execute()
}
