package audit

import (
	"github.com/andyvauliln/paysync/internal/audit/repository"
	"github.com/andyvauliln/paysync/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the audit log writer used by merge commits and
// authorization denials, and the reader behind /admin/audit-logs.
var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
