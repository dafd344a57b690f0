package manager

import "errors"

// Manager errors
var (
	ErrInvalidState     = errors.New("operation not allowed in current league state")
	ErrNotEnoughPlayers = errors.New("not enough registered players")
	ErrNoReferee        = errors.New("no referee available")
	ErrUnknownRound     = errors.New("unknown round")
)
