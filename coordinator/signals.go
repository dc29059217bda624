package coordinator

import "distcoord/signal"

// Signal kinds for every inbound/outbound message spec §6 names. Kept as
// a flat const block (rather than per-package Kind values) since the
// coordinator is the one place that owns the full catalogue and wires it
// to a single signal.Queue.
const (
	KindReadNodesConf Kind = "READ_NODESCONF"
	KindNodeFailRep   Kind = "NODE_FAILREP"

	KindStartPermReq Kind = "START_PERMREQ"
	KindStartMeReq   Kind = "START_MEREQ"
	KindStartCopyReq Kind = "START_COPYREQ"
	KindStartToReq   Kind = "START_TOREQ"
	KindEndToReq     Kind = "END_TOREQ"
	KindUpdateToReq  Kind = "UPDATE_TOREQ"
	KindInclNodeReq  Kind = "INCL_NODEREQ"

	KindGcpPrepare     Kind = "GCP_PREPARE"
	KindGcpPrepareConf Kind = "GCP_PREPARECONF"
	KindGcpCommit      Kind = "GCP_COMMIT"
	KindGcpCommitConf  Kind = "GCP_COMMITCONF"
	KindGcpSave        Kind = "GCP_SAVE"
	KindGcpSaveConf    Kind = "GCP_SAVECONF"
	KindGcpTcFinished  Kind = "GCP_TCFINISHED"

	KindLcpFragRep     Kind = "LCP_FRAG_REP"
	KindLcpFragOrd     Kind = "LCP_FRAG_ORD"
	KindLcpCompleteRep Kind = "LCP_COMPLETE_REP"
	KindEmptyLcpConf   Kind = "EMPTY_LCP_CONF"
	KindMasterLcpConf  Kind = "MASTER_LCPCONF"
	KindLcpTick        Kind = "CONTINUEB_LCP_TICK"

	KindDigetNodesReq Kind = "DIGETNODESREQ"
	KindGetGciReq     Kind = "GETGCIREQ"

	KindWaitGcpReq      Kind = "WAIT_GCP_REQ"
	KindBlockCommitOrd  Kind = "BLOCK_COMMIT_ORD"
	KindUnblockCommitOrd Kind = "UNBLOCK_COMMIT_ORD"

	KindGcpMonitorTick Kind = "CONTINUEB_GCP_MONITOR"
	KindVerifyGateTick Kind = "CONTINUEB_VERIFY_GATE_DRAIN"

	KindStartToConf       Kind = "START_TOCONF"
	KindCreateFragReq     Kind = "CREATE_FRAGREQ"
	KindCreateFragConf    Kind = "CREATE_FRAGCONF"
	KindCopyFragReq       Kind = "COPY_FRAGREQ"
	KindCopyFragConf      Kind = "COPY_FRAGCONF"
	KindEndToConf         Kind = "END_TOCONF"
	KindRetryCommitCreate Kind = "CONTINUEB_RETRY_COMMIT_CREATE"

	KindStartInfoReq  Kind = "START_INFOREQ"
	KindStartInfoConf Kind = "START_INFOCONF"
	KindInclNodeConf  Kind = "INCL_NODECONF"
)

// Kind re-exports signal.Kind so callers outside this package do not
// need to import distcoord/signal just to name a handler.
type Kind = signal.Kind
