package pkg

import "fmt"

var (
	// These variables are here only to show current version. They are set in makefile during build process
	BulkloadVersion         = "devel"
	GitRevision             = "devel"
	BulkloadVersionRevision = fmt.Sprintf("%s-%s", BulkloadVersion, GitRevision)
)
