// Package term colorizes operator-facing output, matching the
// "[!] error:" convention and session/listener lifecycle notices.
package term

import (
	"fmt"

	"github.com/fatih/color"
)

func Cyan(s string) string {
	c := color.New(color.FgHiCyan)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func Green(s string) string {
	c := color.New(color.FgHiGreen)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func Magenta(s string) string {
	c := color.New(color.FgHiMagenta)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func Yellow(s string) string {
	c := color.New(color.FgHiYellow)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func Red(s string) string {
	c := color.New(color.FgHiRed)
	c.EnableColor()
	return c.SprintFunc()(s)
}

// Errorf renders the "[!] error:" line required of every surfaced error.
func Errorf(format string, args ...interface{}) string {
	return Red("[!] error: ") + fmt.Sprintf(format, args...)
}
