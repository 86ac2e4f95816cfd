package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Database type constants
const (
	PostgreSQL = "postgresql"
	Oracle     = "oracle"
	MySQL      = "mysql"
	SQLite     = "sqlite"
	MongoDB    = "mongodb"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Isolation level names accepted by transaction.isolation.
const (
	IsolationDefault         = "default"
	IsolationReadUncommitted = "read_uncommitted"
	IsolationReadCommitted   = "read_committed"
	IsolationRepeatableRead  = "repeatable_read"
	IsolationSerializable    = "serializable"
)

// SupportedDatabaseTypes lists every value accepted by database.type.
var SupportedDatabaseTypes = []string{PostgreSQL, Oracle, MySQL, SQLite, MongoDB}

var (
	validateOnce sync.Once
	structValid  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report koanf key names ("pool.max.connections") rather than Go field names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		structValid = v
	})
	return structValid
}

// Validate checks field-level constraints declared in struct tags first,
// then the cross-field database rules.
func Validate(cfg *Config) error {
	if err := validateStruct(cfg); err != nil {
		return err
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	return nil
}

func validateStruct(cfg *Config) error {
	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, toConfigError(fe))
	}
	return errors.Join(errs...)
}

// toConfigError converts a validator field error into a ConfigError keyed by
// the dotted configuration path.
func toConfigError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "gte", "lte":
		return NewValidationError(field, fmt.Sprintf("value %v out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %q validation", fe.Tag()))
	}
}

// IsDatabaseConfigured reports whether a database was intentionally configured.
func IsDatabaseConfigured(cfg *DatabaseConfig) bool {
	return cfg.Type != "" || cfg.Host != "" || cfg.ConnectionString != ""
}

func validateDatabase(cfg *DatabaseConfig) error {
	if !IsDatabaseConfigured(cfg) {
		return nil
	}

	if cfg.Type == "" {
		return NewMissingFieldError("database.type")
	}
	if !slices.Contains(SupportedDatabaseTypes, cfg.Type) {
		return NewInvalidFieldError("database.type", fmt.Sprintf("invalid database type %q", cfg.Type), SupportedDatabaseTypes)
	}

	switch cfg.Type {
	case SQLite:
		// A missing path selects an in-memory database.
		return nil
	case MongoDB:
		return validateMongoFields(cfg)
	}

	if cfg.ConnectionString != "" {
		return nil
	}
	return validateNetworkFields(cfg)
}

func validateNetworkFields(cfg *DatabaseConfig) error {
	if cfg.Host == "" {
		return NewMissingFieldError("database.host")
	}
	if cfg.Port <= 0 {
		return NewMissingFieldError("database.port")
	}
	if cfg.Username == "" {
		return NewMissingFieldError("database.username")
	}

	if cfg.Type == Oracle {
		return validateOracleFields(cfg)
	}
	if cfg.Database == "" {
		return NewMissingFieldError("database.database")
	}
	return nil
}

func validateOracleFields(cfg *DatabaseConfig) error {
	svc := cfg.Oracle.Service
	if svc.Name != "" && svc.SID != "" {
		return NewValidationError("database.oracle.service", "name and sid are mutually exclusive")
	}
	if svc.Name == "" && svc.SID == "" && cfg.Database == "" {
		return NewMissingFieldError("database.oracle.service.name")
	}
	return nil
}

func validateMongoFields(cfg *DatabaseConfig) error {
	if cfg.Mongo.URI == "" && cfg.ConnectionString == "" && cfg.Host == "" {
		return NewMissingFieldError("database.mongo.uri")
	}
	return nil
}
