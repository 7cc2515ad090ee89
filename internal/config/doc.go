// Package config loads the factorpanel run configuration.
//
// # Configuration Sources
//
// Values are resolved in the following order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// The YAML file is taken from the --config flag, otherwise the first of
// factorpanel.yaml and configs/factorpanel.yaml that exists. Relative input
// and output paths in the file are resolved against the file's directory.
//
// # Environment Variables
//
// All environment variables follow the pattern FP_<SECTION>_<FIELD>:
//
//	FP_JOIN_ENGINE=sqlite
//	FP_RETURNS_MISSING_POLICY=drop
//	FP_WINDOW_START=1990-01-01
//	FP_PLOTS_BINS=50,100
//
// # Validation
//
// Load validates struct tags with go-playground/validator and then checks
// the rules that span fields: the window is ordered, the regression class
// list contains the sentinel class and the return floor is negative.
package config
