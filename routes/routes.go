package routes

import "github.com/tedsuo/rata"

const (
	Ping = "Ping"

	List    = "List"
	Create  = "Create"
	Info    = "Info"
	Destroy = "Destroy"

	Stop = "Stop"

	LimitCPU        = "LimitCPU"
	CurrentCPULimit = "CurrentCPULimit"

	LimitMemory        = "LimitMemory"
	CurrentMemoryLimit = "CurrentMemoryLimit"

	NetIn = "NetIn"

	Run     = "Run"
	Process = "Process"

	Properties     = "Properties"
	Property       = "Property"
	SetProperty    = "SetProperty"
	RemoveProperty = "RemoveProperty"
)

var Routes = rata.Routes{
	{Path: "/ping", Method: "GET", Name: Ping},

	{Path: "/containers", Method: "GET", Name: List},
	{Path: "/containers", Method: "POST", Name: Create},

	{Path: "/containers/:handle/info", Method: "GET", Name: Info},

	{Path: "/containers/:handle", Method: "DELETE", Name: Destroy},
	{Path: "/containers/:handle/stop", Method: "PUT", Name: Stop},

	{Path: "/containers/:handle/limits/cpu", Method: "PUT", Name: LimitCPU},
	{Path: "/containers/:handle/limits/cpu", Method: "GET", Name: CurrentCPULimit},

	{Path: "/containers/:handle/limits/memory", Method: "PUT", Name: LimitMemory},
	{Path: "/containers/:handle/limits/memory", Method: "GET", Name: CurrentMemoryLimit},

	{Path: "/containers/:handle/net/in", Method: "POST", Name: NetIn},

	{Path: "/containers/:handle/processes", Method: "POST", Name: Run},
	{Path: "/containers/:handle/processes/:pid", Method: "GET", Name: Process},

	{Path: "/containers/:handle/properties", Method: "GET", Name: Properties},
	{Path: "/containers/:handle/properties/:key", Method: "GET", Name: Property},
	{Path: "/containers/:handle/properties/:key", Method: "PUT", Name: SetProperty},
	{Path: "/containers/:handle/properties/:key", Method: "DELETE", Name: RemoveProperty},
}
