package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

func printSuccess(format string, args ...interface{}) {
	fmt.Fprintln(os.Stdout, successStyle.Render(fmt.Sprintf(format, args...)))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
}

func printWarn(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...interface{}) {
	fmt.Fprintln(os.Stdout, infoStyle.Render(fmt.Sprintf(format, args...)))
}
