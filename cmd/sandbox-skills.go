package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curaious/uno-sandbox/internal/config"
	"github.com/curaious/uno-sandbox/pkg/sandbox"
	"github.com/curaious/uno-sandbox/pkg/sandbox/skills"
)

var sandboxSkillsCmd = &cobra.Command{
	Use:   "sandbox-skills",
	Short: "List the skills seeded into every sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.ReadConfig()

		list, err := skills.List(conf.SKILLS_SOURCE_DIR, conf.MAX_SKILL_FILE_SIZE)
		if err != nil {
			return err
		}
		files, err := sandbox.CollectSeedFiles(cmd.Context(), sandbox.SeedConfig{
			SourceDir:   conf.SKILLS_SOURCE_DIR,
			DestDir:     conf.SKILLS_BASE_PATH,
			MaxFileSize: conf.MAX_SKILL_FILE_SIZE,
		}, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, s := range list {
			fmt.Fprintf(out, "%s\t%s\n", s.Name, s.Description)
		}

		var total int
		for _, f := range files {
			total += len(f.Content)
		}
		fmt.Fprintf(out, "%d skills, %d files (%d bytes) -> %s\n", len(list), len(files), total, conf.SKILLS_BASE_PATH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sandboxSkillsCmd)
}
