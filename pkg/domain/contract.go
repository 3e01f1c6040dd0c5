package domain

import (
	"context"
	"io"

	"github.com/core-tools/hsu-couchbar/pkg/resourceusage"
	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

// Contract is the control surface of the menu-bar supervisor, served over
// HTTP by the control package and implemented remotely by its client.
type Contract interface {
	Status(ctx context.Context) (Status, error)
	Start(ctx context.Context) (*supervisor.Handle, error)
	Stop(ctx context.Context) error
	Output(ctx context.Context) ([]byte, error)
	AdminURL(ctx context.Context) (string, error)
}

// OutputFollower streams captured output until the process exits or ctx is done
type OutputFollower interface {
	FollowOutput(ctx context.Context, w io.Writer) error
}

type Status struct {
	supervisor.Status
	// Number of supervisors created so far; each runs one process
	Runs     int    `json:"runs"`
	AdminURL string `json:"admin_url"`
	// Sampled only while the process is running
	Resources *resourceusage.Usage `json:"resources,omitempty"`
}
