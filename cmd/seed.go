package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/egor/permitchat/database"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/models"
)

type seedOptions struct {
	name     string
	email    string
	password string
	role     string
}

var seedOpts seedOptions

var seedStaffCmd = &cobra.Command{
	Use:   "seed-staff",
	Short: "Create or reset a staff account",
	Long: "Creates a staff or admin account, or resets the name, role and password of an\n" +
		"existing one. The password may come from PERMITCHAT_SEED_PASSWORD.",
	RunE: runSeedStaff,
}

func init() {
	f := seedStaffCmd.Flags()
	f.StringVar(&seedOpts.name, "name", "", "full name shown to applicants")
	f.StringVar(&seedOpts.email, "email", "", "login e-mail")
	f.StringVar(&seedOpts.password, "password", "", "login password")
	f.StringVar(&seedOpts.role, "role", models.RoleStaff, "staff or admin")
	_ = seedStaffCmd.MarkFlagRequired("email")
}

func (o seedOptions) validate() error {
	if strings.TrimSpace(o.name) == "" {
		return errors.New("--name is required")
	}
	if !strings.Contains(o.email, "@") {
		return fmt.Errorf("invalid e-mail %q", o.email)
	}
	if len(o.password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if o.role != models.RoleStaff && o.role != models.RoleAdmin {
		return fmt.Errorf("role must be %s or %s", models.RoleStaff, models.RoleAdmin)
	}
	return nil
}

func runSeedStaff(cmd *cobra.Command, _ []string) error {
	opts := seedOpts
	if opts.password == "" {
		opts.password = os.Getenv("PERMITCHAT_SEED_PASSWORD")
	}
	if err := opts.validate(); err != nil {
		return err
	}

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := queries.NewStore(db, database.FullCapabilities(), cfg.Database.QueryTimeout)
	u, err := store.UpsertUser(cmd.Context(), strings.TrimSpace(opts.name), opts.email, opts.password, opts.role)
	if err != nil {
		return err
	}
	log.Info("Staff account ready",
		zap.Int64("user_id", u.ID),
		zap.String("email", u.Email),
		zap.String("role", u.Role),
	)
	return nil
}
