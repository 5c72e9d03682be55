package routes

// Routes package cung cấp tất cả routing functions cho Unit Linkage Service
//
// Cấu trúc:
// - api.go: API routes (/v1/*)
// - web.go: Web routes (/, /docs, /status)
// - routes.go: Export functions
//
// Sử dụng:
// routes.SetupAllRoutes(router, matchController, resultController, associationController)
