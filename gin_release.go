//go:build release
// +build release

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/yeti47/replaybuffer/config"
)

// initializeGin sets up Gin in release mode for production builds
func initializeGin(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Without configured proxies no forwarding header is trusted, so
	// lockout tracking sees the real peer address
	if len(cfg.TrustedProxies) > 0 {
		router.SetTrustedProxies(cfg.TrustedProxies)
	} else {
		router.SetTrustedProxies(nil)
	}

	return router
}
