package policy

// Level is the coarse health bucket used for policy selection.
type Level int

const (
	LevelHigh Level = iota
	LevelMedium
	LevelLow
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ImageVariant selects the image quality tier callers should request.
type ImageVariant int

const (
	ImageOriginal ImageVariant = iota
	ImageLarge
	ImageMedium
	ImageSmall
)

func (v ImageVariant) String() string {
	switch v {
	case ImageOriginal:
		return "original"
	case ImageLarge:
		return "large"
	case ImageMedium:
		return "medium"
	case ImageSmall:
		return "small"
	default:
		return "unknown"
	}
}

// Policy is the throttling directive derived from a health level.
// MaxNetworkConcurrent is always at least 1.
type Policy struct {
	MaxNetworkConcurrent     int
	AllowBackgroundML        bool
	ImageVariant             ImageVariant
	PreferCacheWhenUnhealthy bool
	HealthLevel              Level
}

// ForLevel maps a health level to its policy, scaling concurrency from
// the configured full-health base.
func ForLevel(level Level, base int) Policy {
	if base < 1 {
		base = 1
	}

	switch level {
	case LevelMedium:
		return Policy{
			MaxNetworkConcurrent: maxInt(2, base/2),
			AllowBackgroundML:    true,
			ImageVariant:         ImageLarge,
			HealthLevel:          LevelMedium,
		}
	case LevelLow:
		return Policy{
			MaxNetworkConcurrent:     maxInt(1, base/4),
			AllowBackgroundML:        false,
			ImageVariant:             ImageMedium,
			PreferCacheWhenUnhealthy: true,
			HealthLevel:              LevelLow,
		}
	case LevelCritical:
		return Policy{
			MaxNetworkConcurrent:     1,
			AllowBackgroundML:        false,
			ImageVariant:             ImageSmall,
			PreferCacheWhenUnhealthy: true,
			HealthLevel:              LevelCritical,
		}
	default:
		return Policy{
			MaxNetworkConcurrent: base,
			AllowBackgroundML:    true,
			ImageVariant:         ImageOriginal,
			HealthLevel:          LevelHigh,
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
