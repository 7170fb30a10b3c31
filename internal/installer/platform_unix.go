//go:build unix

package installer

const supported = true
