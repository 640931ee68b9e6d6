package conf

import "fmt"

// SystemEnvironmentEnum runtime environment
type SystemEnvironmentEnum string

const (
	LocalEnvironmentEnum   SystemEnvironmentEnum = "loc"
	ExampleEnvironmentEnum SystemEnvironmentEnum = "example"
	TestEnvironmentEnum    SystemEnvironmentEnum = "test"
	ProdEnvironmentEnum    SystemEnvironmentEnum = "pro"
)

// SystemEnvironment current environment, set from --env
var SystemEnvironment = LocalEnvironmentEnum

// ConfigFile explicit config file path, overrides SystemEnvironment when set
var ConfigFile string

// IsDevelopment reports whether verbose development logging should be used
func IsDevelopment() bool {
	return SystemEnvironment == LocalEnvironmentEnum || SystemEnvironment == TestEnvironmentEnum
}

// GetYaml returns the config file for the current environment
func GetYaml() string {
	if ConfigFile != "" {
		return ConfigFile
	}
	return fmt.Sprintf("./conf/conf_%s.yaml", SystemEnvironment)
}
