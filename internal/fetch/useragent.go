package fetch

import (
	"fmt"
	"math/rand"
	"strings"
)

// firefoxVersions are the release versions the generator draws from.
var firefoxVersions = []string{"140.0", "141.0", "142.0", "143.0"}

// uaPlatform is one desktop OS family with its version variants.
type uaPlatform struct {
	name     string
	variants []string
}

var uaPlatforms = []uaPlatform{
	{"Windows NT", []string{"10.0", "11.0"}},
	{"Macintosh; Intel Mac OS X", []string{"15_5", "14_6", "13_6"}},
	{"X11; Linux", []string{"x86_64", "i686"}},
	{"X11; Ubuntu; Linux", []string{"x86_64", "i686"}},
}

// RandomUserAgent returns a plausible desktop Firefox user-agent string.
// Varying the agent per request keeps one pool node from presenting a
// single fingerprint across targets.
func RandomUserAgent() string {
	platform := uaPlatforms[rand.Intn(len(uaPlatforms))] //nolint:gosec // header scatter, not crypto
	variant := platform.variants[rand.Intn(len(platform.variants))]

	var osString string
	switch platform.name {
	case "Windows NT":
		osString = fmt.Sprintf("%s %s; Win64; x64", platform.name, variant)
	case "Macintosh; Intel Mac OS X":
		osString = fmt.Sprintf("%s %s", platform.name, strings.ReplaceAll(variant, "_", "."))
	default:
		osString = fmt.Sprintf("%s %s", platform.name, variant)
	}

	version := firefoxVersions[rand.Intn(len(firefoxVersions))]
	return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", osString, version, version)
}
