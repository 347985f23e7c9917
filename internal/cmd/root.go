package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "camrig",
	Short: "Synchronized multi-camera capture",
	Long: `camrig launches one recorder process per camera and drives them as a
single unit: every load, start, stop, and kill is broadcast to the whole
group and only counts once each recorder has confirmed it.

Recordings are written to a temp dir under the save directory and moved to
S<seq>_<Name>_<inc>_C<n>.<ext> when capture stops.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error returned by Execute to a process exit status:
// 2 for input or state errors the operator can fix, 3 when recorders failed
// to confirm a transition and a retry may succeed, 1 otherwise.
func ExitCode(err error) int {
	var cve config.ValidationErrors
	switch {
	case err == nil:
		return 0
	case errors.IsRetryable(err):
		return 3
	case errors.As(err, &cve):
		return 2
	case errors.IsUserFacing(err) && errors.GetSeverity(err) == errors.SeverityWarning:
		return 2
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/camrig/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/camrig")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CAMRIG")
	// CAMRIG_OUTPUT_BASE_PATH for output.base_path
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// requireLinux guards the commands that drive recorders. Process groups,
// V4L2 device nodes, and the default recorder are Linux-only.
func requireLinux() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("camrig drives V4L2 recorders and only runs on Linux (this is %s)", runtime.GOOS)
	}
	return nil
}
