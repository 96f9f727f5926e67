package settlement

type SubmitIntentRequest struct {
	Market     string `protobuf:"bytes,1,opt,name=market"`
	Sender     string `protobuf:"bytes,2,opt,name=sender"`
	Recipient  string `protobuf:"bytes,3,opt,name=recipient"`
	Kind       uint32 `protobuf:"varint,4,opt,name=kind"`
	Amount     int64  `protobuf:"varint,5,opt,name=amount"`
	ItemId     uint64 `protobuf:"varint,6,opt,name=item_id"`
	Quantity   uint64 `protobuf:"varint,7,opt,name=quantity"`
	GrossPrice uint64 `protobuf:"varint,8,opt,name=gross_price"`
	Creator    string `protobuf:"bytes,9,opt,name=creator"`
	RoyaltyBps uint32 `protobuf:"varint,10,opt,name=royalty_bps"`
	Sale       uint32 `protobuf:"varint,11,opt,name=sale"`
	Nonce      uint64 `protobuf:"varint,12,opt,name=nonce"`
	SessionKey string `protobuf:"bytes,13,opt,name=session_key"`
	Signature  []byte `protobuf:"bytes,14,opt,name=signature"`
	CreatedAt  int64  `protobuf:"varint,15,opt,name=created_at"`
	TtlSeconds int64  `protobuf:"varint,16,opt,name=ttl_seconds"`
}

type SubmitIntentResponse struct {
	IntentId uint64 `protobuf:"varint,1,opt,name=intent_id"`
}

type CancelIntentRequest struct {
	Market   string `protobuf:"bytes,1,opt,name=market"`
	IntentId uint64 `protobuf:"varint,2,opt,name=intent_id"`
}

type CancelIntentResponse struct {
	Cancelled bool   `protobuf:"bool,1,opt,name=cancelled"`
	Reason    string `protobuf:"bytes,2,opt,name=reason"`
}

type GetInclusionProofRequest struct {
	Market  string `protobuf:"bytes,1,opt,name=market"`
	BatchId uint64 `protobuf:"varint,2,opt,name=batch_id"`
	Wallet  string `protobuf:"bytes,3,opt,name=wallet"`
}

type GetInclusionProofResponse struct {
	MerkleRoot []byte   `protobuf:"bytes,1,opt,name=merkle_root"`
	LeafIndex  uint32   `protobuf:"varint,2,opt,name=leaf_index"`
	Siblings   [][]byte `protobuf:"bytes,3,rep,name=siblings"`
}

type GetBatchRequest struct {
	Market  string `protobuf:"bytes,1,opt,name=market"`
	BatchId uint64 `protobuf:"varint,2,opt,name=batch_id"`
}

type GetBatchResponse struct {
	BatchId      uint64 `protobuf:"varint,1,opt,name=batch_id"`
	Market       string `protobuf:"bytes,2,opt,name=market"`
	MerkleRoot   []byte `protobuf:"bytes,3,opt,name=merkle_root"`
	BatchHash    []byte `protobuf:"bytes,4,opt,name=batch_hash"`
	NumWallets   int32  `protobuf:"varint,5,opt,name=num_wallets"`
	NumItems     int32  `protobuf:"varint,6,opt,name=num_items"`
	AnonymitySet int32  `protobuf:"varint,7,opt,name=anonymity_set"`
	Fee          uint64 `protobuf:"varint,8,opt,name=fee"`
	AppliedAt    string `protobuf:"bytes,9,opt,name=applied_at"`
}

type SettlementEvent struct {
	BatchId    uint64 `protobuf:"varint,1,opt,name=batch_id"`
	Market     string `protobuf:"bytes,2,opt,name=market"`
	MerkleRoot []byte `protobuf:"bytes,3,opt,name=merkle_root"`
	NumWallets int32  `protobuf:"varint,4,opt,name=num_wallets"`
	NumItems   int32  `protobuf:"varint,5,opt,name=num_items"`
	TotalFee   uint64 `protobuf:"varint,6,opt,name=total_fee"`
	Timestamp  int64  `protobuf:"varint,7,opt,name=timestamp"`
}

type StreamEventsRequest struct {
	Market string `protobuf:"bytes,1,opt,name=market"`
}
