package main

import (
	"fmt"

	"github.com/codeak/portal/internal/database"
	"github.com/spf13/cobra"
)

var (
	flagAdminLogin    string
	flagAdminEmail    string
	flagAdminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	Long: `Creates a verified admin account. Admins cannot be registered over the
API, so the first one is seeded from here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		admin, err := database.CreateAdmin(db, database.AdminSeed{
			Login:    flagAdminLogin,
			Email:    flagAdminEmail,
			Password: flagAdminPassword,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", admin.Login, admin.ID)
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&flagAdminLogin, "login", "", "Admin login")
	createAdminCmd.Flags().StringVar(&flagAdminEmail, "email", "", "Admin email")
	createAdminCmd.Flags().StringVar(&flagAdminPassword, "password", "", "Admin password (at least 6 characters)")
	_ = createAdminCmd.MarkFlagRequired("login")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createAdminCmd)
}
