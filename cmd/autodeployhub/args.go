package main

import (
	"errors"
)

var (
	errorWantedNoArgs      = errors.New("expected no (non-flag) arguments")
	errorWantedWorkload    = errors.New("expected exactly one argument: the workload id")
	errorWantedRollbackArg = errors.New("expected two arguments: the workload id and the attempt id")
)
