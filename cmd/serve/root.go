package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dMQ/cmd/util"
	"github.com/ValentinKolb/dMQ/node"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dMQ broker node",
		Long:    `Start the dMQ broker node with the specified configuration. A config file (--config) is required; every key in it can be overridden via command line flags or environment variables. The format of the environment variables is DMQ_<flag> (e.g. DMQ_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "config"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the YAML configuration file (required)"))

	key = "shards"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of shards (single-goroutine event loops) the node runs. 0 means one per CPU core"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, 10, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, 5, cmdUtil.WrapString("CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for storing raft state and partition data"))

	key = "replica-id"
	ServeCmd.PersistentFlags().Uint64(key, 0, cmdUtil.WrapString("ReplicaID is the numeric identifier of this node within the cluster"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ClusterMembers is a comma-separated list of raft addresses in the format '1=localhost:63001,2=localhost:63002,...'. Empty runs a single-node broker"))

	key = "control-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ControlMembers is a comma-separated list of the peers' control-plane endpoints in the format '1=localhost:33445,2=localhost:33446,...'. Used to forward control operations to the node that leads a raft group"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for metadata and dispatch operations"))

	key = "control-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:33445", cmdUtil.WrapString("The address on which the control-plane RPC listener accepts broker-to-broker and tooling connections (e.g. 0.0.0.0:33445, /tmp/dmq.sock)"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9644", cmdUtil.WrapString("The address on which the admin HTTP API will listen"))

	key = "metadata-refresh-ms"
	ServeCmd.PersistentFlags().Int64(key, 5000, cmdUtil.WrapString("Interval in milliseconds between metadata dissemination rounds"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "control-tls-cert"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the TLS certificate of the control-plane listener (empty disables TLS)"))

	key = "control-tls-key"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the TLS key of the control-plane listener"))

	key = "control-tls-ca"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the CA certificate used to verify control-plane clients"))

	key = "admin-tls-cert"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the TLS certificate of the admin listener (empty disables TLS)"))

	key = "admin-tls-key"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the TLS key of the admin listener"))
}

// processConfig reads the configuration from the config file, the command line
// flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// the config file is mandatory; refuse to construct anything without it
	cfgFile := viper.GetString("config")
	if cfgFile == "" {
		return fmt.Errorf("the --config flag is required")
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %v", cfgFile, err)
	}

	// read the configuration from the config file, flags and environment
	serveCmdConfig.Shards = viper.GetInt("shards")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.ReplicaID = viper.GetUint64("replica-id")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.ControlEndpoint = viper.GetString("control-endpoint")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")
	serveCmdConfig.MetadataRefreshMillis = viper.GetInt64("metadata-refresh-ms")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.ControlTLS = common.TLSConfig{
		CertFile: viper.GetString("control-tls-cert"),
		KeyFile:  viper.GetString("control-tls-key"),
		CAFile:   viper.GetString("control-tls-ca"),
	}
	serveCmdConfig.AdminTLS = common.TLSConfig{
		CertFile: viper.GetString("admin-tls-cert"),
		KeyFile:  viper.GetString("admin-tls-key"),
	}

	// parse cluster and control member lists
	var err error
	if serveCmdConfig.ClusterMembers, err = parseMembers(viper.GetString("cluster-members")); err != nil {
		return fmt.Errorf("cluster-members: %v", err)
	}
	if serveCmdConfig.ControlMembers, err = parseMembers(viper.GetString("control-members")); err != nil {
		return fmt.Errorf("control-members: %v", err)
	}

	// test if the replica id is in the cluster members (only for cluster mode)
	if serveCmdConfig.Clustered() {
		if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
			return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
		}
	}

	return nil
}

// parseMembers parses a comma-separated 'ID=address' list. An empty list
// yields nil.
func parseMembers(raw string) (map[uint64]string, error) {
	if raw == "" {
		return nil, nil
	}
	members := make(map[uint64]string)
	for _, member := range strings.Split(raw, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid member format: %s (expected ID=address)", member)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid member id %s: %v", parts[0], err)
		}
		members[id] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// run starts the dMQ broker node and blocks until it is signalled to stop
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(*serveCmdConfig)
	fmt.Println(serveCmdConfig.String())

	n := node.New(*serveCmdConfig)
	if err := n.Wire(context.Background()); err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}
	defer n.Stop()

	// block until a listener dies or the process is signalled
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-n.Err():
		return err
	case <-ctx.Done():
		return nil
	}
}

// initConfig reads in env files and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dmq")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
