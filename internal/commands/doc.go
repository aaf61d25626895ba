// Package commands implements termctl, the command line front end for a
// ptyd server.
//
//	termctl create --command bash build
//	termctl write build make test
//	termctl read --follow build
//	termctl key build ctrl_c
//	termctl attach build
package commands
