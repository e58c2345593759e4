// Package config defines torcirc's configuration surface.
//
// A single flat Config struct carries pool sizing, health-probe cadence,
// rotation and retirement thresholds, dispatch pacing, and runtime
// selection. Values are layered: compiled defaults, then an optional
// .torcirc.yml file, then CLI flags. The populated Config is passed by
// pointer through the application; nothing reads configuration globally.
package config
