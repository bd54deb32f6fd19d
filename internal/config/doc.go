// Package config loads the daemon configuration: a JSON file for structural
// settings, an optional .env file exported into the process environment, and
// credentials decoded from the environment. Missing credentials switch the
// corresponding collaborator into demo mode rather than failing startup.
package config
