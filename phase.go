package loom

import "fmt"

// Phase identifies a stage of the deployment pipeline. Phases advance
// strictly in declaration order; a deployment failure leaves the pipeline
// parked at the failing phase.
type Phase int

const (
	// PhaseNotStarted is the state before Deploy has run.
	PhaseNotStarted Phase = iota

	// PhaseExtensionsLoaded means all registered extensions have been
	// accepted by the notification bus.
	PhaseExtensionsLoaded

	// PhaseBootstrapRegistered means the container's own bootstrap
	// components are in the registry.
	PhaseBootstrapRegistered

	// PhaseBeforeDiscoveryFired means before-discovery observers have run.
	PhaseBeforeDiscoveryFired

	// PhaseConfigDeployed means discovery ran and every declarative
	// configuration source has been parsed.
	PhaseConfigDeployed

	// PhaseStereotypesChecked means builtin and discovered stereotypes
	// are registered and validated.
	PhaseStereotypesChecked

	// PhaseDefaultsConfigured means the container's default components
	// are in the registry.
	PhaseDefaultsConfigured

	// PhaseClasspathDeployed means every discovered candidate type has
	// been through the definition engine.
	PhaseClasspathDeployed

	// PhaseAdditionalTypesDeployed means types added by observers have
	// been through the definition engine.
	PhaseAdditionalTypesDeployed

	// PhaseSpecializationsChecked means specialization links are
	// resolved and specialized components disabled.
	PhaseSpecializationsChecked

	// PhaseAfterDiscoveryFired means after-discovery observers have run.
	PhaseAfterDiscoveryFired

	// PhaseValidated means the validation engine passed and the registry
	// is sealed.
	PhaseValidated

	// PhaseAfterValidationFired means after-validation observers have run.
	PhaseAfterValidationFired

	// PhaseDeployed is the terminal state: the container serves lookups.
	PhaseDeployed
)

var phaseNames = map[Phase]string{
	PhaseNotStarted:              "NotStarted",
	PhaseExtensionsLoaded:        "ExtensionsLoaded",
	PhaseBootstrapRegistered:     "BootstrapRegistered",
	PhaseBeforeDiscoveryFired:    "BeforeDiscoveryFired",
	PhaseConfigDeployed:          "ConfigDeployed",
	PhaseStereotypesChecked:      "StereotypesChecked",
	PhaseDefaultsConfigured:      "DefaultsConfigured",
	PhaseClasspathDeployed:       "ClasspathDeployed",
	PhaseAdditionalTypesDeployed: "AdditionalTypesDeployed",
	PhaseSpecializationsChecked:  "SpecializationsChecked",
	PhaseAfterDiscoveryFired:     "AfterDiscoveryFired",
	PhaseValidated:               "Validated",
	PhaseAfterValidationFired:    "AfterValidationFired",
	PhaseDeployed:                "Deployed",
}

// String returns the phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(p))
}

// IsValid checks if the phase is one of the pipeline states.
func (p Phase) IsValid() bool {
	return p >= PhaseNotStarted && p <= PhaseDeployed
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
