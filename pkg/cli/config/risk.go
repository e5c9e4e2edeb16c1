package config

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Risk holds risk engine policy configuration
type Risk struct {
	PolicyFile string
}

// Flags returns CLI flags for Risk configuration
func (r *Risk) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "risk-policy",
			Usage:       "Path to a YAML risk policy file (optional, built-in defaults otherwise)",
			Category:    "Risk",
			Sources:     cli.EnvVars("CYBERSCOPE_RISK_POLICY"),
			Destination: &r.PolicyFile,
		},
	}
}

// Configure loads the risk policy, falling back to the built-in
// defaults when no file is given. Fields omitted in the file keep
// their default values.
func (r *Risk) Configure() (model.RiskPolicy, error) {
	policy := model.DefaultRiskPolicy()
	if r.PolicyFile == "" {
		return policy, nil
	}

	data, err := os.ReadFile(r.PolicyFile)
	if err != nil {
		return policy, goerr.Wrap(err, "failed to read risk policy file",
			goerr.V("path", r.PolicyFile))
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, goerr.Wrap(err, "failed to parse risk policy file",
			goerr.V("path", r.PolicyFile))
	}

	if err := policy.Validate(); err != nil {
		return policy, goerr.Wrap(err, "invalid risk policy",
			goerr.V("path", r.PolicyFile))
	}

	return policy, nil
}
