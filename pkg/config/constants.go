package config

// EnvPrefix scopes every environment variable this service reads.
const EnvPrefix = "HALCYON"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvDBDSN  = "HALCYON_DB_DSN"
	EnvDBHost = "HALCYON_DB_HOST"
	EnvDBUser = "HALCYON_DB_USER"
	EnvDBName = "HALCYON_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
