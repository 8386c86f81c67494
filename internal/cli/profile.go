package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/merchload/internal/config"
)

// profileFlags are the flags that shape the effective profile.
type profileFlags struct {
	configFile string
	url        string
	stages     string
	users      string
	tokens     string
	thinkTime  string
	seed       uint64
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Profile file (YAML or JSON)")
	cmd.Flags().StringVar(&f.url, "url", "", "Base URL of the service (overrides APPTEST_URL)")
	cmd.Flags().StringVar(&f.stages, "stages", "", `Ramp stages as "duration:target,..." e.g. "2m:15,1m:30,1m:0,1m:20"`)
	cmd.Flags().StringVar(&f.users, "users", "", "Users JSON file (overrides APPTEST_USER_FILE)")
	cmd.Flags().StringVar(&f.tokens, "tokens", "", "Auth token JSON file (overrides APPTEST_AUTH_TOKEN_FILE)")
	cmd.Flags().StringVar(&f.thinkTime, "think-time", "", "Pause after each iteration (e.g. 10ms)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed for reproducible action sequences (0 = random)")
}

// build merges the default profile, the profile file, the environment and
// the flags, in increasing precedence.
func (f *profileFlags) build(cmd *cobra.Command, lookup func(string) (string, bool)) (*config.TestConfig, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.LoadConfig(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyDefaults(cfg)

	config.ReadEnv(lookup).Apply(cfg)

	if f.url != "" {
		cfg.Settings.BaseURL = f.url
	}
	if f.stages != "" {
		stages, err := config.ParseStages(f.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if f.users != "" {
		cfg.Dataset.UsersFile = f.users
	}
	if f.tokens != "" {
		cfg.Dataset.TokensFile = f.tokens
	}
	if f.thinkTime != "" {
		cfg.Workload.ThinkTime = f.thinkTime
	}
	if cmd.Flags().Changed("seed") {
		cfg.Workload.Seed = f.seed
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return cfg, nil
}

func newProfileCmd(_ *rootOptions) *cobra.Command {
	flags := &profileFlags{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the effective load profile as YAML",
		Long: `Print the profile a run would use: built-in defaults merged with the
profile file, the environment and the flags. Save the output to reproduce
a run with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.build(cmd, os.LookupEnv)
			if err != nil {
				return err
			}
			data, err := config.MarshalYAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}
