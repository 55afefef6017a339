//go:build !cgo

package storage

const haveCGO = false
