package providers

import (
	"github.com/andyvauliln/paysync/internal/providers/notify"
	"go.uber.org/fx"
)

// Module groups outbound integrations used after a commit.
var Module = fx.Module("providers",
	notify.Module,
)
