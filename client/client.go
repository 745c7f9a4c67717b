// Package client talks to an ironframe server's management API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/ironframe/routes"
	"github.com/tedsuo/rata"
)

type Client interface {
	Ping() error

	Create(spec ironframe.ContainerSpec) (string, error)
	List() ([]string, error)
	Destroy(handle string) error

	Stop(handle string, kill bool) error

	Info(handle string) (ironframe.ContainerInfo, error)

	// LimitMemory sets the limit if limitInBytes is non-zero, and returns
	// the resulting limit.
	LimitMemory(handle string, limitInBytes uint64) (uint64, error)
	CurrentMemoryLimit(handle string) (uint64, error)

	LimitCPU(handle string, rate int) (int, error)
	CurrentCPULimit(handle string) (int, error)

	NetIn(handle string, hostPort int) (int, error)

	// Run runs a process to completion in the container.
	Run(handle string, spec ironframe.ProcessSpec, stdin string) (protocol.RunResponse, error)
	FindProcessById(handle string, pid int) (protocol.ProcessInfo, error)

	GetProperties(handle string) (ironframe.Properties, error)
	GetProperty(handle string, key string) (string, error)
	SetProperty(handle string, key string, value string) error
	RemoveProperty(handle string, key string) error
}

type client struct {
	req *rata.RequestGenerator

	httpClient *http.Client
}

func New(network, address string) Client {
	dialer := func(string, string) (net.Conn, error) {
		return net.DialTimeout(network, address, time.Second)
	}

	return &client{
		req: rata.NewRequestGenerator("http://ironframe", routes.Routes),

		httpClient: &http.Client{
			Transport: &http.Transport{
				Dial:              dialer,
				DisableKeepAlives: true,
			},
		},
	}
}

func (c *client) Ping() error {
	return c.do(routes.Ping, nil, nil, nil)
}

func (c *client) Create(spec ironframe.ContainerSpec) (string, error) {
	res := &protocol.CreateResponse{}

	err := c.do(routes.Create, spec, res, nil)
	if err != nil {
		return "", err
	}

	return res.Handle, nil
}

func (c *client) List() ([]string, error) {
	res := &protocol.ListResponse{}

	err := c.do(routes.List, nil, res, nil)
	if err != nil {
		return nil, err
	}

	return res.Handles, nil
}

func (c *client) Destroy(handle string) error {
	return c.do(routes.Destroy, nil, nil, rata.Params{"handle": handle})
}

func (c *client) Stop(handle string, kill bool) error {
	return c.do(
		routes.Stop,
		&protocol.StopRequest{Kill: kill},
		nil,
		rata.Params{"handle": handle},
	)
}

func (c *client) Info(handle string) (ironframe.ContainerInfo, error) {
	var info ironframe.ContainerInfo

	err := c.do(routes.Info, nil, &info, rata.Params{"handle": handle})
	if err != nil {
		return ironframe.ContainerInfo{}, err
	}

	return info, nil
}

func (c *client) LimitMemory(handle string, limitInBytes uint64) (uint64, error) {
	res := &protocol.MemoryLimits{}

	err := c.do(
		routes.LimitMemory,
		&protocol.MemoryLimits{LimitInBytes: limitInBytes},
		res,
		rata.Params{"handle": handle},
	)
	if err != nil {
		return 0, err
	}

	return res.LimitInBytes, nil
}

func (c *client) CurrentMemoryLimit(handle string) (uint64, error) {
	res := &protocol.MemoryLimits{}

	err := c.do(routes.CurrentMemoryLimit, nil, res, rata.Params{"handle": handle})
	if err != nil {
		return 0, err
	}

	return res.LimitInBytes, nil
}

func (c *client) LimitCPU(handle string, rate int) (int, error) {
	res := &protocol.CPULimits{}

	err := c.do(
		routes.LimitCPU,
		&protocol.CPULimits{Rate: rate},
		res,
		rata.Params{"handle": handle},
	)
	if err != nil {
		return 0, err
	}

	return res.Rate, nil
}

func (c *client) CurrentCPULimit(handle string) (int, error) {
	res := &protocol.CPULimits{}

	err := c.do(routes.CurrentCPULimit, nil, res, rata.Params{"handle": handle})
	if err != nil {
		return 0, err
	}

	return res.Rate, nil
}

func (c *client) NetIn(handle string, hostPort int) (int, error) {
	res := &protocol.NetInResponse{}

	err := c.do(
		routes.NetIn,
		&protocol.NetInRequest{HostPort: hostPort},
		res,
		rata.Params{"handle": handle},
	)
	if err != nil {
		return 0, err
	}

	return res.HostPort, nil
}

func (c *client) Run(handle string, spec ironframe.ProcessSpec, stdin string) (protocol.RunResponse, error) {
	res := protocol.RunResponse{}

	err := c.do(
		routes.Run,
		&protocol.RunRequest{ProcessSpec: spec, Stdin: stdin},
		&res,
		rata.Params{"handle": handle},
	)
	if err != nil {
		return protocol.RunResponse{}, err
	}

	return res, nil
}

func (c *client) FindProcessById(handle string, pid int) (protocol.ProcessInfo, error) {
	res := protocol.ProcessInfo{}

	err := c.do(routes.Process, nil, &res, rata.Params{"handle": handle, "pid": strconv.Itoa(pid)})
	if err != nil {
		return protocol.ProcessInfo{}, err
	}

	return res, nil
}

func (c *client) GetProperties(handle string) (ironframe.Properties, error) {
	properties := ironframe.Properties{}

	err := c.do(routes.Properties, nil, &properties, rata.Params{"handle": handle})
	if err != nil {
		return nil, err
	}

	return properties, nil
}

func (c *client) GetProperty(handle string, key string) (string, error) {
	res := &protocol.PropertyValue{}

	err := c.do(routes.Property, nil, res, rata.Params{"handle": handle, "key": key})
	if err != nil {
		return "", err
	}

	return res.Value, nil
}

func (c *client) SetProperty(handle string, key string, value string) error {
	return c.do(
		routes.SetProperty,
		&protocol.PropertyValue{Value: value},
		nil,
		rata.Params{"handle": handle, "key": key},
	)
}

func (c *client) RemoveProperty(handle string, key string) error {
	return c.do(routes.RemoveProperty, nil, nil, rata.Params{"handle": handle, "key": key})
}

func (c *client) do(
	handler string,
	req, res interface{},
	params rata.Params,
) error {
	var body io.Reader

	if req != nil {
		buf := new(bytes.Buffer)

		err := json.NewEncoder(buf).Encode(req)
		if err != nil {
			return err
		}

		body = buf
	}

	request, err := c.req.CreateRequest(handler, params, body)
	if err != nil {
		return err
	}

	if req != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}

	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var serverErr ironframe.Error

		err := json.NewDecoder(httpResp.Body).Decode(&serverErr)
		if err != nil {
			return fmt.Errorf("bad response: %s", httpResp.Status)
		}

		return serverErr.Err
	}

	if res == nil {
		return nil
	}

	return json.NewDecoder(httpResp.Body).Decode(res)
}
