package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Canejo/vault-state-plugin/internal/settings"
)

var (
	settingsFolder string
	settingsIgnore string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the snapshot folder and ignore patterns",
	Long: `
Without flags the command prints the effective settings. --folder and
--ignore update the settings file (SETTINGS_FILE, default .vaultstate.yaml
in the vault root). Ignore patterns are comma separated path prefixes
where * matches any run of characters.
`,
	RunE: runSettings,
}

func init() {
	settingsCmd.Flags().StringVar(&settingsFolder, "folder", "", "Snapshot folder inside the vault")
	settingsCmd.Flags().StringVar(&settingsIgnore, "ignore", "", "Comma separated ignore patterns")
}

// changedString returns the flag value only when it was set on the command line
func changedString(fs *pflag.FlagSet, name string) (string, bool) {
	if !fs.Changed(name) {
		return "", false
	}
	v, err := fs.GetString(name)
	if err != nil {
		return "", false
	}
	return v, true
}

func runSettings(cmd *cobra.Command, args []string) error {
	path := settings.Path(appCfg)
	out := cmd.OutOrStdout()

	folder, folderChanged := changedString(cmd.Flags(), "folder")
	patterns, ignoreChanged := changedString(cmd.Flags(), "ignore")

	if folderChanged || ignoreChanged {
		current, err := settings.Load(path)
		if err != nil {
			return err
		}
		if folderChanged {
			current.SnapshotFolder = folder
		}
		if ignoreChanged {
			current.IgnorePatterns = patterns
		}
		if err := current.Validate(); err != nil {
			return err
		}
		if err := settings.Save(path, current); err != nil {
			return err
		}
		if folderChanged {
			appCfg.SnapshotFolder = folder
		}
		if ignoreChanged {
			appCfg.IgnorePatterns = patterns
		}
		fmt.Fprintf(out, "Saved %s\n", path)
	}

	ctrl, err := newController(cmd.Context(), appCfg)
	if err != nil {
		return err
	}
	ctrl.UpdateSettings(appCfg.SnapshotFolder, appCfg.IgnorePatterns)

	fmt.Fprintf(out, "Snapshot folder: %s\n", ctrl.Store().Folder())
	fmt.Fprintf(out, "Ignore patterns: %q\n", appCfg.IgnorePatterns)
	return nil
}
