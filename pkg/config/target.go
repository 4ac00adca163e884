package config

import (
	"github.com/rotisserie/eris"
)

// Target selects the deploy profile
type Target int

const (
	// TargetNone means neither --staging nor --production was passed
	TargetNone Target = iota
	TargetStaging
	TargetProduction
)

func (t Target) String() string {
	switch t {
	case TargetStaging:
		return "staging"
	case TargetProduction:
		return "production"
	default:
		return "none"
	}
}

// ResolveTarget maps the CLI flags to a target. Staging takes precedence if both are set.
func ResolveTarget(staging, production bool) Target {
	switch {
	case staging:
		return TargetStaging
	case production:
		return TargetProduction
	default:
		return TargetNone
	}
}

// Profile returns the destination for the given target
func (d DeployConfig) Profile(target Target) (Profile, error) {
	var profile Profile
	switch target {
	case TargetStaging:
		profile = d.Staging
	case TargetProduction:
		profile = d.Production
	default:
		return Profile{}, eris.Wrap(ErrConfig, "missing or invalid deploy target, pass --staging or --production")
	}

	if profile.Destination == "" {
		return Profile{}, eris.Wrapf(ErrConfig, "deploy.%s.destination is not configured", target)
	}

	if profile.Username != "" && profile.Hostname == "" {
		return Profile{}, eris.Wrapf(ErrConfig, "deploy.%s.username is set but hostname is empty", target)
	}

	return profile, nil
}

// Remote renders the profile as an rsync destination ([user@]host:path or a local path)
func (p Profile) Remote() string {
	if p.Hostname == "" {
		return p.Destination
	}

	host := p.Hostname
	if p.Username != "" {
		host = p.Username + "@" + host
	}
	return host + ":" + p.Destination
}

// Settings is everything the CLI resolves before dispatching a task
type Settings struct {
	Config      *Config
	ProjectRoot string
	Target      Target
	DryRun      bool
	Options     map[string]string
}
