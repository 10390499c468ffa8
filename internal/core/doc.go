// Package core implements the rhi resource and command model on top of the
// wgpu hal layer.
//
// One implementation serves every backend. A Profile captures what differs
// between native APIs:
//
//   - pixel format enum (VkFormat, MTLPixelFormat)
//   - whether usage transitions emit barriers or are only validated
//   - whether native command buffers are reset and reused or released and
//     reallocated on every Begin
//   - whether subpasses share a native pass or become independent passes
//   - resource table capacity and the feature dependency graph
//
// Backend packages construct a Profile and call Open.
package core
