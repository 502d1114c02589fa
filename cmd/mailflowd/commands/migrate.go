package commands

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, logCloser, err := newLogger(logLevel, logDir)
		if err != nil {
			return err
		}
		if logCloser != nil {
			defer logCloser.Close()
		}

		sqlDB, err := openDatabase(log)
		if err != nil {
			return err
		}

		return sqlDB.Close()
	},
}
