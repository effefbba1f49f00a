package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/partdrive/pkg/attest"
	"github.com/zen-systems/partdrive/pkg/config"
	"github.com/zen-systems/partdrive/pkg/crypto"
	"github.com/zen-systems/partdrive/pkg/driver"
	"github.com/zen-systems/partdrive/pkg/evidence"
	"github.com/zen-systems/partdrive/pkg/part"
)

var version = "dev"

var (
	configFile string
	sourceFlag string
	buildFlag  string
	installDir string
	noEvidence bool
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("partdrive: ")

	rootCmd := &cobra.Command{
		Use:   "partdrive",
		Short: "Drive script parts through pull, build and install",
		Long: `Partdrive runs a part's driver script during the pull and build phases
	and copies the build tree into the install directory.

	Every invocation is recorded as an evidence run that can be attested
	and verified later.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.partdrive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "source directory (default: the part's source, relative to the part file)")
	rootCmd.PersistentFlags().StringVar(&buildFlag, "build", "", "build directory (default parts/<name>/build next to the part file)")
	rootCmd.PersistentFlags().StringVar(&installDir, "install-dir", "", "install directory (default parts/<name>/install next to the part file)")
	rootCmd.PersistentFlags().BoolVar(&noEvidence, "no-evidence", false, "do not record an evidence run")

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(phaseCmd(driver.PhasePull, "Run the script in place in the source tree"))
	rootCmd.AddCommand(phaseCmd(driver.PhaseBuild, "Stage and run the script in the build tree, then install"))
	rootCmd.AddCommand(phaseCmd(driver.PhaseInstall, "Copy the build tree into the install directory"))
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(attestCmd())
	rootCmd.AddCommand(verifyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <part-file>",
		Short: "Validate a part definition and print its normalized form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := part.LoadFile(args[0])
			if err != nil {
				return err
			}

			for _, stage := range def.Options.UnknownStages() {
				fmt.Fprintf(os.Stderr, "warning: stage %q has no hook and will be ignored\n", stage)
			}

			data, err := yaml.Marshal(def)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, string(data))
			fmt.Fprintf(os.Stdout, "# fingerprint: %s\n", def.Options.Fingerprint())
			return nil
		},
	}
}

func phaseCmd(phase, short string) *cobra.Command {
	return &cobra.Command{
		Use:   phase + " <part-file>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(args[0])
			if err != nil {
				return err
			}
			return s.run(cmd.Context(), phase)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <part-file>",
		Short: "Run pull and then build",
		Long: `Runs the pull phase and then the build phase, which installs the build
	output when the part enables install. Phases whose stage is not enabled
	are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(args[0])
			if err != nil {
				return err
			}
			return s.run(cmd.Context(), driver.PhasePull, driver.PhaseBuild)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <part-file>",
		Short: "Report whether the part changed since its last recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := part.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			current := def.Options.Fingerprint()
			latest, runDir, err := evidence.LatestRun(cfg.EvidenceDir, def.Name)
			if errors.Is(err, evidence.ErrNoRuns) {
				fmt.Fprintf(os.Stdout, "%s: never run\n", def.Name)
				return nil
			}
			if err != nil {
				return err
			}

			state := "clean"
			switch {
			case latest.Fingerprint != current:
				state = "dirty (build properties changed)"
			case latest.Outcome != evidence.OutcomeSucceeded:
				state = "dirty (last run " + latest.Outcome + ")"
			}
			fmt.Fprintf(os.Stdout, "%s: %s\n", def.Name, state)
			fmt.Fprintf(os.Stdout, "  last run:    %s (%s)\n", latest.ID, latest.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(os.Stdout, "  evidence:    %s\n", runDir)
			fmt.Fprintf(os.Stdout, "  fingerprint: %s\n", current)
			return nil
		},
	}
}

func attestCmd() *cobra.Command {
	var runDir string
	var phaseName string
	var outFile string
	var signKey string

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Export an attestation for a recorded phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runDir == "" || phaseName == "" || outFile == "" {
				return fmt.Errorf("--run, --phase, and --out are required")
			}

			att, err := attest.BuildAttestation(runDir, phaseName)
			if err != nil {
				return err
			}

			if signKey != "" {
				keyDir, err := crypto.DefaultKeyDir()
				if err != nil {
					return err
				}
				signer, err := crypto.NewSigner(keyDir, signKey)
				if err != nil {
					return fmt.Errorf("failed to initialize signer: %w", err)
				}
				if err := signer.SignAttestation(att); err != nil {
					return err
				}
			}

			return attest.WriteFile(outFile, att)
		},
	}

	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")
	cmd.Flags().StringVar(&phaseName, "phase", "", "phase name to attest")
	cmd.Flags().StringVar(&outFile, "out", "", "output file path")
	cmd.Flags().StringVar(&signKey, "sign", "", "sign with the named key from ~/.partdrive/keys")

	return cmd
}

func verifyCmd() *cobra.Command {
	var attestationPath string
	var runDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an attestation against a run directory and the installed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attestationPath == "" || runDir == "" {
				return fmt.Errorf("--attestation and --run are required")
			}

			att, err := attest.ReadFile(attestationPath)
			if err != nil {
				return err
			}
			if att.Signature != nil {
				keyDir, err := crypto.DefaultKeyDir()
				if err != nil {
					return err
				}
				if err := crypto.VerifyAttestationSignature(att, keyDir); err != nil {
					return err
				}
			}
			if err := attest.VerifyAttestation(att, runDir); err != nil {
				return err
			}

			fmt.Fprintln(os.Stdout, "Attestation verified.")
			return nil
		},
	}

	cmd.Flags().StringVar(&attestationPath, "attestation", "", "attestation file path")
	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")

	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// resolveDirs fills the phase directories from flags, falling back to a
// parts/<name>/{build,install} layout next to the part file.
func resolveDirs(partFile string, def *part.Definition) (driver.Dirs, error) {
	partDir, err := filepath.Abs(filepath.Dir(partFile))
	if err != nil {
		return driver.Dirs{}, err
	}
	workDir := filepath.Join(partDir, "parts", def.Name)

	dirs := driver.Dirs{
		SourceDir:  sourceFlag,
		BuildDir:   buildFlag,
		InstallDir: installDir,
	}
	if dirs.SourceDir == "" {
		dirs.SourceDir = partDir
		switch {
		case filepath.IsAbs(def.Source):
			dirs.SourceDir = def.Source
		case def.Source != "":
			dirs.SourceDir = filepath.Join(partDir, def.Source)
		}
	}
	if dirs.BuildDir == "" {
		dirs.BuildDir = filepath.Join(workDir, "build")
	}
	if dirs.InstallDir == "" {
		dirs.InstallDir = filepath.Join(workDir, "install")
	}

	for _, dir := range []*string{&dirs.SourceDir, &dirs.BuildDir, &dirs.InstallDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return driver.Dirs{}, err
		}
		*dir = abs
	}
	return dirs, nil
}
