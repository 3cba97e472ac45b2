package config

import (
	_ "github.com/any-hub/fsroute/internal/module/builtin"
	_ "github.com/any-hub/fsroute/internal/module/declarative"
	_ "github.com/any-hub/fsroute/internal/module/luart"
)
