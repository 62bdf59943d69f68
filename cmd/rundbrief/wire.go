//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/afero"

	"github.com/lukasdietrich/rundbrief/internal/bounce"
	"github.com/lukasdietrich/rundbrief/internal/crypto"
	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/delivery"
	"github.com/lukasdietrich/rundbrief/internal/locking"
)

var wireSet = wire.NewSet(
	wire.Struct(new(processqueueCommand), "*"),
	wire.Struct(new(processbouncesCommand), "*"),

	afero.NewOsFs,

	database.WireSet,
	crypto.WireSet,
	locking.WireSet,
	delivery.WireSet,
	bounce.WireSet,
)

func newProcessqueueCommand() (*processqueueCommand, error) {
	panic(wire.Build(wireSet))
}

func newProcessbouncesCommand() (*processbouncesCommand, error) {
	panic(wire.Build(wireSet))
}
