package fixtures

import (
	_ "embed"
)

// KernelPTX is a minimal valid kernel, assembled for sm_52 and above.
//
//go:embed ptx/kernel.ptx
var KernelPTX string

// MissingVersionPTX lacks the mandatory .version directive.
//
//go:embed ptx/missing_version.ptx
var MissingVersionPTX string

//go:embed config/config.yaml.template
var ConfigTemplate []byte
