//go:build !unix

package main

import "github.com/ChamsBouzaiene/gencode/internal/interaction"

func watchPauseSignal(*interaction.Pauser) func() { return func() {} }
