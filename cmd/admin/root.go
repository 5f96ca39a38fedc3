package admin

import (
	"fmt"

	"github.com/ValentinKolb/dMQ/cmd/util"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	controlClient client.IControlClient

	// AdminCommands represents the admin command group
	AdminCommands = &cobra.Command{
		Use:                "admin",
		Short:              "Perform broker control operations",
		PersistentPreRunE:  setupControlClient,
		PersistentPostRunE: closeControlClient,
	}

	// transferGroupCmd represents the transfer-group command
	transferGroupCmd = &cobra.Command{
		Use:   "transfer-group [group]",
		Short: "Transfer leadership of a raft group",
		Long:  "Transfer leadership of the raft group with the given numeric id. Without --target, raft picks the new leader.",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransferGroup,
	}

	// transferPartitionCmd represents the transfer-partition command
	transferPartitionCmd = &cobra.Command{
		Use:   "transfer-partition [namespace/topic/partition]",
		Short: "Transfer leadership of a topic-partition",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransferPartition,
	}

	// moveReplicasCmd represents the move-replicas command
	moveReplicasCmd = &cobra.Command{
		Use:   "move-replicas [namespace/topic/partition] [replicas]",
		Short: "Change the replica placement of a topic-partition",
		Long:  "Change the replica placement of a topic-partition. Replicas are given as a flat comma-separated list of node,shard pairs (e.g. '1,0,2,1' places replicas on node 1 shard 0 and node 2 shard 1).",
		Args:  cobra.ExactArgs(2),
		RunE:  runMoveReplicas,
	}

	// pingCmd represents the ping command
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Probe liveness of the broker's control plane",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to admin command
	AdminCommands.AddCommand(transferGroupCmd)
	AdminCommands.AddCommand(transferPartitionCmd)
	AdminCommands.AddCommand(moveReplicasCmd)
	AdminCommands.AddCommand(pingCmd)

	// Add common RPC flags to the admin command
	util.SetupRPCClientFlags(AdminCommands)

	// Add flags specific to the transfer commands
	transferGroupCmd.Flags().String("target", "", util.WrapString("Node id of the new leader (empty lets raft pick one)"))
	transferPartitionCmd.Flags().String("target", "", util.WrapString("Node id of the new leader (empty lets raft pick one)"))
}

// setupControlClient initializes the control-plane client
func setupControlClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the control-plane client
	controlClient, err = client.NewControlClient(
		*config,
		t,
		s,
	)

	return err
}

// closeControlClient releases the client's transport connections
func closeControlClient(_ *cobra.Command, _ []string) error {
	if controlClient == nil {
		return nil
	}
	return controlClient.Close()
}

// targetFlag parses the optional --target flag into a node id
func targetFlag() (*model.NodeID, error) {
	raw := viper.GetString("target")
	if raw == "" {
		return nil, nil
	}
	target, err := model.ParseNodeID(raw)
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// runTransferGroup handles the transfer-group command
func runTransferGroup(_ *cobra.Command, args []string) error {
	group, err := model.ParseGroupID(args[0])
	if err != nil {
		return err
	}

	target, err := targetFlag()
	if err != nil {
		return err
	}

	if cerr := controlClient.TransferGroupLeadership(group, target); cerr != nil {
		return fmt.Errorf("failed to transfer leadership: %v", cerr)
	}

	fmt.Println("ok")
	return nil
}

// runTransferPartition handles the transfer-partition command
func runTransferPartition(_ *cobra.Command, args []string) error {
	ntp, err := model.ParseNTP(args[0])
	if err != nil {
		return err
	}

	target, err := targetFlag()
	if err != nil {
		return err
	}

	if cerr := controlClient.TransferPartitionLeadership(ntp, target); cerr != nil {
		return fmt.Errorf("failed to transfer leadership: %v", cerr)
	}

	fmt.Println("ok")
	return nil
}

// runMoveReplicas handles the move-replicas command
func runMoveReplicas(_ *cobra.Command, args []string) error {
	ntp, err := model.ParseNTP(args[0])
	if err != nil {
		return err
	}

	replicas, err := model.ParseBrokerShards(args[1])
	if err != nil {
		return err
	}

	if cerr := controlClient.MovePartitionReplicas(ntp, replicas); cerr != nil {
		return fmt.Errorf("failed to move replicas: %v", cerr)
	}

	fmt.Println("ok")
	return nil
}

// runPing handles the ping command
func runPing(_ *cobra.Command, _ []string) error {
	if cerr := controlClient.Ping(); cerr != nil {
		return fmt.Errorf("ping failed: %v", cerr)
	}

	fmt.Println("pong")
	return nil
}
