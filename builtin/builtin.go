// Package builtin registers the entrypoints every server exposes
// regardless of the plugins loaded: discovery, cancellation and version.
package builtin

import (
	"errors"
	"fmt"

	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/schema"
	"github.com/machinefabric/rendercore-go/task"
)

// Plugin is the plugin name reported for builtin entrypoints.
const Plugin = "Core"

// Version is the result of get-version.
type Version struct {
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	Patch    int    `json:"patch"`
	Revision string `json:"revision"`
}

func (v Version) String() string {
	if v.Revision == "" {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d.%d-%s", v.Major, v.Minor, v.Patch, v.Revision)
}

// Register adds the builtin entrypoints to registry. Cancellation goes
// through manager.
func Register(registry *entrypoint.Registry, manager *task.Manager, version Version) error {
	for _, e := range []*entrypoint.Entrypoint{
		registryEntrypoint(registry),
		schemaEntrypoint(registry),
		cancelEntrypoint(manager),
		versionEntrypoint(version),
	} {
		if err := registry.Add(e); err != nil {
			return err
		}
	}
	return nil
}

func registryEntrypoint(registry *entrypoint.Registry) *entrypoint.Entrypoint {
	return &entrypoint.Entrypoint{
		Name:        "registry",
		Description: "Retrieve the names of all registered entrypoints",
		Plugin:      Plugin,
		Result:      schema.Array(schema.String()),
		Handler: func(*entrypoint.Request) (any, error) {
			return registry.Names(), nil
		},
	}
}

type schemaParams struct {
	Endpoint string `json:"endpoint"`
}

func schemaEntrypoint(registry *entrypoint.Registry) *entrypoint.Entrypoint {
	return &entrypoint.Entrypoint{
		Name:        "schema",
		Description: "Get the JSON schema and description of the given entrypoint",
		Plugin:      Plugin,
		Params: schema.Object().
			WithRequired("endpoint", schema.String().WithDescription("Name of the entrypoint")),
		Result: schema.Object().
			WithRequired("title", schema.String()).
			WithRequired("description", schema.String()).
			WithRequired("plugin", schema.String()).
			WithRequired("async", schema.Boolean()).
			WithProperty("params", schema.Object().WithAdditional(schema.Any())).
			WithProperty("returns", schema.Object().WithAdditional(schema.Any())),
		Handler: func(req *entrypoint.Request) (any, error) {
			var params schemaParams
			if err := req.DecodeParams(&params); err != nil {
				return nil, err
			}
			description, ok := registry.Describe(params.Endpoint)
			if !ok {
				return nil, rpc.NewError(rpc.CodeInvalidParams, fmt.Sprintf("Unknown entrypoint: '%s'", params.Endpoint))
			}
			return description, nil
		},
	}
}

func cancelEntrypoint(manager *task.Manager) *entrypoint.Entrypoint {
	return &entrypoint.Entrypoint{
		Name:        "cancel",
		Description: "Cancel the request with the given ID",
		Plugin:      Plugin,
		Params: schema.Object().
			WithRequired("id", schema.OneOf(schema.String(), schema.Integer()).
				WithDescription("ID of the request to cancel")),
		Handler: func(req *entrypoint.Request) (any, error) {
			params, _ := req.Params().(map[string]any)
			id, ok := rpc.IDFromValue(params["id"])
			if !ok {
				return nil, rpc.NewError(rpc.CodeInvalidParams, "Invalid task id")
			}
			key := task.Key{Client: req.ClientID(), ID: id.Key()}
			if err := manager.Cancel(key); err != nil {
				if errors.Is(err, task.ErrNotFound) {
					return nil, rpc.NewError(rpc.CodeInvalidParams, "Task not found")
				}
				return nil, err
			}
			return nil, nil
		},
	}
}

func versionEntrypoint(version Version) *entrypoint.Entrypoint {
	return &entrypoint.Entrypoint{
		Name:        "get-version",
		Description: "Get the build version of the server",
		Plugin:      Plugin,
		Result: schema.Object().
			WithRequired("major", schema.Integer()).
			WithRequired("minor", schema.Integer()).
			WithRequired("patch", schema.Integer()).
			WithRequired("revision", schema.String()),
		Handler: func(*entrypoint.Request) (any, error) {
			return version, nil
		},
	}
}
