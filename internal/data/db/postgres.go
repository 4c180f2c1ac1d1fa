package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/branchchat-backend/internal/platform/envutil"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type Options struct {
	// Driver is "postgres" (default) or "sqlite".
	Driver     string
	DSN        string
	SQLitePath string
}

func OptionsFromEnv(logg *logger.Logger) Options {
	opts := Options{
		Driver:     strings.ToLower(envutil.String("DB_DRIVER", "postgres", logg)),
		DSN:        envutil.String("DATABASE_URL", "", logg),
		SQLitePath: envutil.String("SQLITE_PATH", "branchchat.db", logg),
	}
	if opts.Driver == "postgres" && opts.DSN == "" {
		opts.DSN = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			envutil.String("POSTGRES_USER", "postgres", logg),
			envutil.String("POSTGRES_PASSWORD", "", logg),
			envutil.String("POSTGRES_HOST", "localhost", logg),
			envutil.String("POSTGRES_PORT", "5432", logg),
			envutil.String("POSTGRES_NAME", "branchchat", logg),
		)
	}
	return opts
}

type Service struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

func Open(logg *logger.Logger, opts Options) (*Service, error) {
	serviceLog := logg.With("service", "DBService", "driver", opts.Driver)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite":
		path := opts.SQLitePath
		if path == "" {
			path = "branchchat.db"
		}
		dialector = sqlite.Open(path)
	case "postgres", "":
		if opts.DSN == "" {
			return nil, fmt.Errorf("missing postgres dsn")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}
	if opts.Driver == "sqlite" {
		// One writer at a time; transactions serialize on the single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	serviceLog.Info("Database connected")
	return &Service{db: db, log: serviceLog, driver: opts.Driver}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Running auto migration")
	return AutoMigrateAll(s.db)
}

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
