package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

const flagGroupAnnotation = "group"

const legacyUsage = "ORIGINAL PROCESSED HEIGHT WIDTH FRAMES CHROMA OUTPUT " +
	"METRIC..."

func cliUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s [flags]\n", fs.Name())
	fmt.Fprintf(w, "       %s %s\n\n", fs.Name(), legacyUsage)

	// Group flags by annotation, default to "General Options"
	helpGroupLists := make(map[string][]*pflag.Flag)
	var helpGroupOrder []string
	var longestFlagName, longestHelpMessage, longestDefaultVal int

	fs.VisitAll(func(f *pflag.Flag) {
		currentFlagAnnotations := f.Annotations[flagGroupAnnotation]
		flagGroup := "General Options"
		if len(currentFlagAnnotations) > 0 {
			flagGroup = currentFlagAnnotations[0]
		}

		if _, helpGroupExists := helpGroupLists[flagGroup]; !helpGroupExists {
			helpGroupOrder = append(helpGroupOrder, flagGroup)
		}
		helpGroupLists[flagGroup] = append(helpGroupLists[flagGroup], f)

		longestFlagName = max(longestFlagName, len(f.Name)+1)
		longestHelpMessage = max(longestHelpMessage, len(f.Usage)+1)
		longestDefaultVal = max(longestDefaultVal, len(getDefaultString(f))+1)
	})

	for _, helpGroupName := range helpGroupOrder {
		fmt.Fprint(w, colorText(hiYellow, helpGroupName+":\n"))
		for _, f := range helpGroupLists[helpGroupName] {
			printFormattedFlag(w, f, longestFlagName, longestHelpMessage,
				longestDefaultVal)
		}
		fmt.Fprint(w, "\n")
	}
}

func printFormattedFlag(w io.Writer, f *pflag.Flag, maxFlagName, maxHelpText,
	maxDef int) {
	defaultValue := getDefaultString(f)
	defaultValuePadding := strings.Repeat(" ", maxDef-len(defaultValue))

	helpPadding := strings.Repeat(" ", maxHelpText-len(f.Usage))
	defaultTxt := colorText(darkPurple, fmt.Sprintf(
		"%sDefault: %s%s", helpPadding, defaultValuePadding, defaultValue))

	flagPadding := strings.Repeat(" ", maxFlagName-len(f.Name))
	flagName := colorText(cyan, fmt.Sprintf("--%s%s", f.Name, flagPadding))

	usageText := colorText(green, f.Usage)

	fmt.Fprintf(w, "\t%s %s   %s\n", flagName, usageText, defaultTxt)
}

// ANSI color codes

type color string

const (
	cyan       color = "\033[96m" // Bright cyan
	darkPurple color = "\033[38;5;55m"
	hiYellow   color = "\033[93m" // Bright yellow
	green      color = "\033[92m" // Bright green
)

const reset = "\033[0m"

func colorText(c color, text string) string { return string(c) + text + reset }

func getDefaultString(f *pflag.Flag) string {
	if f.DefValue == "" {
		return "\"\""
	}
	return f.DefValue
}

func addFlagToHelpGroup(fs *pflag.FlagSet, flagName string,
	helpGroupName string) {
	lookupFlag := fs.Lookup(flagName)
	if lookupFlag == nil {
		panic("unknown flag: " + flagName)
	}

	if lookupFlag.Annotations == nil {
		lookupFlag.Annotations = map[string][]string{}
	}
	lookupFlag.Annotations[flagGroupAnnotation] = []string{helpGroupName}
}
