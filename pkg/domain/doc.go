// Package domain contains the core types shared across normwatch components.
//
// It defines the regulatory feed entities (Publication), the detected change
// model (RegulatoryChange, RemediationAction), the per-cycle report
// (MonitoringRun), and the ports implemented by external collaborators
// (feed source, notification sender, template regenerator, stores).
//
// The package has no dependencies on other normwatch packages; everything
// else depends on it.
package domain
