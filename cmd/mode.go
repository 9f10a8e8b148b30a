package cmd

import (
	"strconv"

	"github.com/spf13/pflag"

	"github.com/deploymenttheory/go-e2fsck/internal/repair"
)

type modeChoice int

const (
	modeAsk modeChoice = iota
	modePreen
	modeReadOnly
	modeYes
)

// modeSelection collects -p/-a, -n and -y. They share one destination so
// the last one given on the command line wins.
type modeSelection struct {
	mode modeChoice
}

func (m *modeSelection) register(flags *pflag.FlagSet) {
	for _, f := range []struct {
		name, shorthand, usage string
		choice                 modeChoice
	}{
		{"preen", "p", "automatically repair without questions", modePreen},
		{"auto", "a", "same as -p", modePreen},
		{"no", "n", "open read-only and assume \"no\" to all questions", modeReadOnly},
		{"yes", "y", "assume \"yes\" to all questions", modeYes},
	} {
		flag := flags.VarPF(&modeFlag{sel: m, choice: f.choice}, f.name, f.shorthand, f.usage)
		flag.NoOptDefVal = "true"
	}
}

// Resolve returns the repair mode and whether every question is answered
// yes.
func (m *modeSelection) Resolve() (repair.Mode, bool) {
	switch m.mode {
	case modePreen:
		return repair.ModeUnattended, false
	case modeReadOnly:
		return repair.ModeReadOnly, false
	case modeYes:
		return repair.ModeInteractive, true
	default:
		return repair.ModeInteractive, false
	}
}

// modeFlag is a boolean flag writing its choice into a shared selection
type modeFlag struct {
	sel    *modeSelection
	choice modeChoice
	set    bool
}

func (f *modeFlag) String() string { return strconv.FormatBool(f.set) }
func (f *modeFlag) Type() string   { return "bool" }

func (f *modeFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	f.set = v
	if v {
		f.sel.mode = f.choice
	}
	return nil
}
