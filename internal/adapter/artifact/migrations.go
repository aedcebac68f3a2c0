package artifact

// CurrentVersion is the artifact schema version written by this build.
// Increment this when making breaking changes to the file layout.
const CurrentVersion = 1

var supportedVersions = map[int]bool{
	1: true,
}

func checkVersion(v int) error {
	if !supportedVersions[v] {
		return corrupt("unsupported artifact_version %d (this build reads up to %d)", v, CurrentVersion)
	}
	return nil
}
