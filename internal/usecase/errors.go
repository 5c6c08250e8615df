package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrSwarm = errors.New("swarm error")
	ErrBuild = errors.New("snapshot build error")
)

func wrapSwarm(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSwarm, err)
}

func wrapBuild(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBuild, err)
}
