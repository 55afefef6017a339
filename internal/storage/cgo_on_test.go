//go:build cgo

package storage

const haveCGO = true
