package registry

import (
	"net/http"

	"github.com/dukex/flowgraph/pkg/nodes/condition"
	"github.com/dukex/flowgraph/pkg/nodes/delay"
	"github.com/dukex/flowgraph/pkg/nodes/httprequest"
	"github.com/dukex/flowgraph/pkg/nodes/logger"
	"github.com/dukex/flowgraph/pkg/nodes/redisget"
	"github.com/dukex/flowgraph/pkg/nodes/redisset"
	"github.com/dukex/flowgraph/pkg/nodes/transform"
	"github.com/dukex/flowgraph/pkg/script"
	"github.com/redis/go-redis/v9"
)

// Dependencies are the collaborators the built-in executors need.
type Dependencies struct {
	Redis       redis.UniversalClient
	HTTPClient  *http.Client
	Scripts     *script.Host
	WorkflowLog logger.WorkflowLog
}

// Default returns a registry with every built-in executor.
func Default(deps Dependencies) *Registry {
	scripts := deps.Scripts
	if scripts == nil {
		scripts = script.NewHost(0)
	}

	return New(
		httprequest.New(deps.HTTPClient),
		transform.New(scripts),
		redisget.New(deps.Redis),
		redisset.New(deps.Redis),
		condition.New(scripts),
		delay.New(),
		logger.New(deps.WorkflowLog),
	)
}
