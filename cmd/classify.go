package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var classifyFile string

var classifyCmd = &cobra.Command{
	Use:   "classify [content]",
	Short: "Classify one transcript without storing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		content, err := classifyInput(args, classifyFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.ClassifyText(ctx, content)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func classifyInput(args []string, file string) (string, error) {
	var content string
	switch {
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrap(err, "classify: read file")
		}
		content = string(b)
	case len(args) == 1:
		content = args[0]
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", eris.New("classify: content is required (argument or --file)")
	}
	return content, nil
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFile, "file", "", "read the transcript from a file")
	rootCmd.AddCommand(classifyCmd)
}
