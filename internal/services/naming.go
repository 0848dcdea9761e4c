package services

import (
	"fmt"
	"time"
)

const artifactTimeLayout = "20060102_150405"

// ArtifactNames returns the object names of both artifacts for a run that
// started at runAt. Names are deterministic so two runs in the same second
// overwrite each other instead of duplicating.
func ArtifactNames(folder, requestID string, runAt time.Time) (pdf, tiff string) {
	ts := runAt.UTC().Format(artifactTimeLayout)
	pdf = fmt.Sprintf("%s%s_consolidated_%s.pdf", folder, requestID, ts)
	tiff = fmt.Sprintf("%s%s_document_%s.tiff", folder, requestID, ts)
	return pdf, tiff
}
