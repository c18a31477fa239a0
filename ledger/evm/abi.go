// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package evm

// RegistryABI is the JSON ABI of the submission registry contract
const RegistryABI = `[
  {
    "type": "function",
    "name": "submit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "name", "type": "string"},
      {"name": "ipfsCID", "type": "string"},
      {"name": "encryptedHash", "type": "bytes32"},
      {"name": "encryptedKey", "type": "bytes32"},
      {"name": "encryptedNonce", "type": "bytes32"},
      {"name": "inputProof", "type": "bytes"},
      {"name": "reviewer", "type": "address"}
    ],
    "outputs": [{"name": "id", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "grantAccess",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "id", "type": "bytes32"},
      {"name": "reviewer", "type": "address"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "revokeAccess",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "id", "type": "bytes32"},
      {"name": "reviewer", "type": "address"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getSubmissionMeta",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": [
      {"name": "name", "type": "string"},
      {"name": "cid", "type": "string"},
      {"name": "time", "type": "uint256"},
      {"name": "builder", "type": "address"}
    ]
  },
  {
    "type": "function",
    "name": "getAllSubmissionIds",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "bytes32[]"}]
  },
  {
    "type": "function",
    "name": "getEncryptedHashHandle",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "getEncryptedKeyHandle",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "getEncryptedNonceHandle",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "bytes32"}]
  },
  {
    "type": "event",
    "name": "SubmissionCreated",
    "anonymous": false,
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true},
      {"name": "builder", "type": "address", "indexed": true},
      {"name": "name", "type": "string", "indexed": false},
      {"name": "ipfsCID", "type": "string", "indexed": false},
      {"name": "timestamp", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "AccessGranted",
    "anonymous": false,
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true},
      {"name": "reviewer", "type": "address", "indexed": true}
    ]
  },
  {
    "type": "event",
    "name": "AccessRevoked",
    "anonymous": false,
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true},
      {"name": "reviewer", "type": "address", "indexed": true}
    ]
  }
]`
